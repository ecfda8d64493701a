package main

import "github.com/jwlerch78/dashieapp-staging-sub003/cmd"

func main() {
	cmd.Execute()
}
