// Package main is responsible for the command-line interface of ya-dns.
package main

import (
	"github.com/zh-yjie/ya-dns/internal/cmd"
)

func main() {
	cmd.Main()
}
