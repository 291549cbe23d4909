package main

import "github.com/ValentinKolb/comms/cmd"

func main() {
	cmd.Execute()
}
