package main

import "click-backend/cmd"

func main() {
	cmd.Execute()
}
