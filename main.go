package main

import "github.com/kaiwahq/kaiwa/cmd"

func main() {
	cmd.Execute()
}
