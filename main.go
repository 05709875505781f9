package main

import "github.com/siftlabs/sift/cmd"

func main() {
	cmd.Execute()
}
