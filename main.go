package main

import "github.com/andresmejia3/cymatic/cmd"

func main() {
	cmd.Execute()
}
