// Package ui renders CLI progress output.
package ui

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const headerWidth = 60

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgWhite)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	stepColor    = color.New(color.FgBlue)
)

// center left-pads text toward the middle of the given width.
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	padding := (width - len(text)) / 2
	return strings.Repeat(" ", padding) + text
}

// Header prints a boxed section header.
func Header(text string) {
	line := strings.Repeat("=", headerWidth)
	headerColor.Println(line)
	headerColor.Println(center(text, headerWidth))
	headerColor.Println(line)
}

// Step prints a numbered progress step.
func Step(current, total int, text string) {
	stepColor.Printf("[%d/%d] ", current, total)
	fmt.Println(text)
}

// Success prints a success line.
func Success(text string) {
	successColor.Printf("✓ %s\n", text)
}

// Info prints a neutral line.
func Info(text string) {
	infoColor.Println(text)
}

// Warning prints a warning line.
func Warning(text string) {
	warningColor.Printf("! %s\n", text)
}

// Error prints an error line.
func Error(text string) {
	errorColor.Printf("✗ %s\n", text)
}

// BlueText prints text in blue.
func BlueText(text string) {
	stepColor.Println(text)
}

// YellowText prints text in yellow.
func YellowText(text string) {
	warningColor.Println(text)
}
