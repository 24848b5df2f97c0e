package main

import "github.com/MeKo-Tech/docmark/cmd/docmark/cmd"

func main() {
	cmd.Execute()
}
