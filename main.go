package main

import "cabinetbench/cmd"

func main() {
	cmd.Execute()
}
