package main

import "xferbench/cmd"

func main() {
	cmd.Execute()
}
