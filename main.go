package main

import "github.com/papapumpkin/edb/cmd"

func main() {
	cmd.Execute()
}
