package main

import "github.com/oshokin/ledger-alarm-bridge/cmd/ledger-alarm-bridge/cmd"

func main() {
	cmd.Execute()
}
