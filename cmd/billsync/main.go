package main

import "time"

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	Execute()
}
