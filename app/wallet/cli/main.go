package main

import "github.com/stakechain/stakechain/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
