// Command typeportctl inspects typekits, property stores and wire frames
// and runs transport self tests.
package main

func main() { Execute() }
