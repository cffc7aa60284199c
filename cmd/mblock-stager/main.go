package main

import "github.com/oshokin/mblock-stager/cmd/mblock-stager/cmd"

func main() {
	cmd.Execute()
}
