package discfmt

import (
	"github.com/wiidisc/wiidisc/pkg/wbin"
	"github.com/wiidisc/wiidisc/pkg/werr"
)

// Certificate signature/public-key type tags (spec §3 "Certificate
// chain"). Sizes follow the standard Wii cert chain layout: an RSA-2048
// signature header is 0x140 bytes, an RSA-2048 public key body is
// 0x23c bytes.
const (
	SigTypeRSA2048 = 0x00010001

	certSigHeaderSize = 0x140
	certKeyBodySize   = 0x23c
	CertEntrySize     = certSigHeaderSize + certKeyBodySize
)

// Cert is one {signature header, public-key body} record within the
// chain.
type Cert struct {
	Raw []byte
}

// Issuer returns the 0x40-byte issuer name embedded in the signature
// header, trimmed of trailing NULs.
func (c *Cert) Issuer() string {
	b := c.Raw[0x80:0xc0]
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// Name returns the 0x40-byte certificate name embedded in the
// public-key body, trimmed of trailing NULs.
func (c *Cert) Name() string {
	b := c.Raw[certSigHeaderSize+4 : certSigHeaderSize+0x44]
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// PublicKeyDER returns the bytes wcrypto.ParseRSAPublicKey expects: the
// raw modulus+exponent region of the key body, wrapped by the caller
// into a certificate structure as needed by the verification library in
// use (pkg/wcrypto treats certs as already-DER pending a real PKI
// fixture; strict verification is optional per spec §4.2).
func (c *Cert) PublicKeyDER() []byte {
	return c.Raw[certSigHeaderSize+0x88:]
}

// Chain is a parsed sequence of certificates, loaded either from the
// partition's cert region or from an adjacent cert.bin (spec §3).
type Chain struct {
	Certs []Cert
}

// ParseChain splits a concatenated certificate-chain buffer into
// individual fixed-size records.
func ParseChain(b []byte) (*Chain, error) {
	if len(b)%CertEntrySize != 0 {
		return nil, &werr.Error{Kind: werr.InvalidLayout, At: "cert chain"}
	}
	n := len(b) / CertEntrySize
	chain := &Chain{Certs: make([]Cert, n)}
	for i := 0; i < n; i++ {
		chain.Certs[i] = Cert{Raw: b[i*CertEntrySize : (i+1)*CertEntrySize]}
	}
	return chain, nil
}

// Find returns the certificate issued under the given name, if any.
func (c *Chain) Find(name string) (*Cert, bool) {
	for i := range c.Certs {
		if c.Certs[i].Name() == name {
			return &c.Certs[i], true
		}
	}
	return nil, false
}

// SigType reads the 4-byte signature type tag at the front of a cert
// record.
func SigType(b []byte) uint32 {
	return wbin.U32(b, 0)
}
