package main

import (
	"github.com/luma/bean/cmd"
)

func main() {
	cmd.Execute()
}
