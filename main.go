package main

import "tickerguard/cmd"

func main() {
	cmd.Execute()
}
