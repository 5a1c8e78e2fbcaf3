package main

import (
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/audiolibrelab/smrec/cmd"
)

func main() {
	cmd.Execute()
}
