/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/secure-ingress-home/apiserver/cmd"

func main() {
	cmd.Execute()
}
