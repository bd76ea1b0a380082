package cli

import "github.com/fatih/color"

// 命令行配色
var (
	titleColour   = color.New(color.FgCyan, color.Bold)
	errorColour   = color.New(color.FgRed, color.Bold)
	successColour = color.New(color.FgGreen)
	infoColour    = color.New(color.FgBlue)
	warnColour    = color.New(color.FgYellow)
)
