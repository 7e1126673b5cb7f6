// Command clhtbench measures clht tables against other concurrent maps.
package main

func main() {
	execute()
}
