package main

import "github.com/jmehdipour/newsletter/cmd"

func main() {
	cmd.Execute()
}
