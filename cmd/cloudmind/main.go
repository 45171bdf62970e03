package main

import "github.com/JasonTeixeira/Cloudmind-sub000/cmd/cloudmind/commands"

func main() {
	commands.Execute()
}
