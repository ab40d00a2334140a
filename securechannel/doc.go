// Package securechannel implements the control panel side of the OSDP secure channel.
//
// A Channel walks through the handshake with one peripheral:
//
//	osdp_CHLNG   -> RND.A                      (ServerRandomNumber)
//	osdp_CCRYPT  <- cUID, RND.B, cryptogram    (Initialize)
//	osdp_SCRYPT  -> server cryptogram          (ServerCryptogram)
//	osdp_RMAC_I  <- initial R-MAC              (Establish)
//
// After establishment every command and reply carries a 4 byte MAC computed from the
// previous MAC in the chain, and data fields may be encrypted with the session key.
package securechannel
