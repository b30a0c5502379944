package main

import "github.com/mpapenbr/lapcounter-go/cmd"

func main() {
	cmd.Execute()
}
