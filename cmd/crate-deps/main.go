package main

import "github.com/ritzau/crate-deps/cmd/crate-deps/cmd"

func main() {
	cmd.Execute()
}
