package main

import "github.com/jlaustill/c-next/cmd"

func main() {
	cmd.Execute()
}
