package main

import "github.com/oshokin/envforge/cmd/envforge/cmd"

func main() {
	cmd.Execute()
}
