package main

import "github.com/cmoscardi/textbook-tts/cmd"

func main() {
	cmd.Execute()
}
