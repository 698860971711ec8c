package main

import "github.com/tanq16/tokysnatcher/cmd"

func main() {
	cmd.Execute()
}
