package main

import "github.com/surge-downloader/offline/cmd"

func main() {
	cmd.Execute()
}
