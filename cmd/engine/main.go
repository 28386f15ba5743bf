// Command engine runs the campaign execution engine: the HTTP API, the step
// scheduler, and the maintenance tasks around them.
package main

func main() {
	Execute()
}
