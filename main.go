package main

import (
	"github.com/ColonelBlimp/notedetect/cmd"
	"github.com/ColonelBlimp/notedetect/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
