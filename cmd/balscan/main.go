// Balscan - static analysis orchestrator for Ballerina projects
// Resolve. Analyze. Report.
package main

func main() {
	Execute()
}
