package main

import "github.com/andresmejia3/faceexport/cmd"

func main() {
	cmd.Execute()
}
