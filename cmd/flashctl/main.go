// Command flashctl inspects and edits flash images holding a configuration
// blob and a crash log.
package main

func main() {
	execute()
}
