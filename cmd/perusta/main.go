// Perusta - single-VM web stack provisioner
// Declare. Apply. Serve.
package main

func main() {
	Execute()
}
