// Command keygen generates the RSA keypair used to wrap archive data
// keys, writing PKCS#1 PEM files the consumer loads at startup.
package main

import (
	"flag"
	"log"

	"breadcrumb-pipeline/internal/archive"
)

func main() {
	bits := flag.Int("bits", 2048, "RSA key size")
	pubPath := flag.String("public", "public_key.pem", "public key output path")
	privPath := flag.String("private", "private_key.pem", "private key output path")
	flag.Parse()

	priv, err := archive.GenerateKeypair(*bits)
	if err != nil {
		log.Fatalf("generate keypair: %v", err)
	}
	if err := archive.WritePrivateKey(*privPath, priv); err != nil {
		log.Fatalf("write private key: %v", err)
	}
	if err := archive.WritePublicKey(*pubPath, &priv.PublicKey); err != nil {
		log.Fatalf("write public key: %v", err)
	}
	log.Printf("wrote %s and %s (%d bits)", *pubPath, *privPath, *bits)
}
