package main

import "github.com/actionbridge/actionbridge/cmd/actionbridge/cmd"

func main() {
	cmd.Execute()
}
