package main

import "github.com/wics-station/wics/internal/client/cmd"

func main() {
	cmd.Execute()
}
