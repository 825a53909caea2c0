package main

import "gigebridge/cmd"

func main() {
	cmd.Execute()
}
