package main

import "github.com/bryanchriswhite/CaptureExpress/cmd/captureexpress/commands"

func main() {
	commands.Execute()
}
