package main

import "github.com/matiasb/jaime/internal/cmd"

func main() {
	cmd.Execute()
}
