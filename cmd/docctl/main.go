package main

import "go.jsonbdoc.dev/core/cmd/docctl/docctlcmd"

func main() { docctlcmd.Execute() }
