// Package main is the entry point of AcceptGuard.
package main

import "github.com/AdguardTeam/AcceptGuard/internal/cmd"

func main() {
	cmd.Main()
}
