// Safetyrules manages the consensus key and safety data of a validator,
// and runs the safety rules engine of the spawned-process service.
package main

import "github.com/relab/safetyrules/internal/cli"

func main() {
	cli.Execute()
}
