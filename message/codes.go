package message

import "fmt"

// StartOfMessage marks the first byte of every frame.
const StartOfMessage byte = 0x53

// ConfigurationAddress is the broadcast address accepted by any peripheral.
const ConfigurationAddress byte = 0x7F

// replyAddressFlag is set on the address byte of every reply.
const replyAddressFlag byte = 0x80

// CommandCode identifies an outgoing command.
type CommandCode byte

const (
	CmdPoll               CommandCode = 0x60
	CmdIDReport           CommandCode = 0x61
	CmdDeviceCapabilities CommandCode = 0x62
	CmdLocalStatus        CommandCode = 0x64
	CmdInputStatus        CommandCode = 0x65
	CmdOutputStatus       CommandCode = 0x66
	CmdReaderStatus       CommandCode = 0x67
	CmdOutputControl      CommandCode = 0x68
	CmdReaderLEDControl   CommandCode = 0x69
	CmdBuzzerControl      CommandCode = 0x6A
	CmdTextOutput         CommandCode = 0x6B
	CmdCommunicationSet   CommandCode = 0x6E
	CmdKeySet             CommandCode = 0x75
	CmdChallenge          CommandCode = 0x76
	CmdServerCryptogram   CommandCode = 0x77
	CmdMaxReplySize       CommandCode = 0x7B
	CmdFileTransfer       CommandCode = 0x7C
	CmdManufacturer       CommandCode = 0x80
	CmdAbort              CommandCode = 0xA2
	CmdKeepActive         CommandCode = 0xA7
)

var commandNames = map[CommandCode]string{
	CmdPoll:               "POLL",
	CmdIDReport:           "ID",
	CmdDeviceCapabilities: "CAP",
	CmdLocalStatus:        "LSTAT",
	CmdInputStatus:        "ISTAT",
	CmdOutputStatus:       "OSTAT",
	CmdReaderStatus:       "RSTAT",
	CmdOutputControl:      "OUT",
	CmdReaderLEDControl:   "LED",
	CmdBuzzerControl:      "BUZ",
	CmdTextOutput:         "TEXT",
	CmdCommunicationSet:   "COMSET",
	CmdKeySet:             "KEYSET",
	CmdChallenge:          "CHLNG",
	CmdServerCryptogram:   "SCRYPT",
	CmdMaxReplySize:       "ACURXSIZE",
	CmdFileTransfer:       "FILETRANSFER",
	CmdManufacturer:       "MFG",
	CmdAbort:              "ABORT",
	CmdKeepActive:         "KEEPACTIVE",
}

func (c CommandCode) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}

	return fmt.Sprintf("CMD(0x%02X)", byte(c))
}

// ReplyType identifies an incoming reply.
type ReplyType byte

const (
	ReplyAck                   ReplyType = 0x40
	ReplyNak                   ReplyType = 0x41
	ReplyPDID                  ReplyType = 0x45
	ReplyPDCap                 ReplyType = 0x46
	ReplyLocalStatus           ReplyType = 0x48
	ReplyInputStatus           ReplyType = 0x49
	ReplyOutputStatus          ReplyType = 0x4A
	ReplyReaderStatus          ReplyType = 0x4B
	ReplyRawReaderData         ReplyType = 0x50
	ReplyFormattedReaderData   ReplyType = 0x51
	ReplyKeypadData            ReplyType = 0x53
	ReplyCommunicationSettings ReplyType = 0x54
	ReplyBiometricData         ReplyType = 0x57
	ReplyBiometricMatch        ReplyType = 0x58
	ReplyCrypticData           ReplyType = 0x76
	ReplyInitialRMac           ReplyType = 0x78
	ReplyBusy                  ReplyType = 0x79
	ReplyFileTransferStatus    ReplyType = 0x7A
	ReplyPIVData               ReplyType = 0x80
	ReplyManufacturerSpecific  ReplyType = 0x90
)

var replyNames = map[ReplyType]string{
	ReplyAck:                   "ACK",
	ReplyNak:                   "NAK",
	ReplyPDID:                  "PDID",
	ReplyPDCap:                 "PDCAP",
	ReplyLocalStatus:           "LSTATR",
	ReplyInputStatus:           "ISTATR",
	ReplyOutputStatus:          "OSTATR",
	ReplyReaderStatus:          "RSTATR",
	ReplyRawReaderData:         "RAW",
	ReplyFormattedReaderData:   "FMT",
	ReplyKeypadData:            "KEYPAD",
	ReplyCommunicationSettings: "COM",
	ReplyBiometricData:         "BIOREADR",
	ReplyBiometricMatch:        "BIOMATCHR",
	ReplyCrypticData:           "CCRYPT",
	ReplyInitialRMac:           "RMAC_I",
	ReplyBusy:                  "BUSY",
	ReplyFileTransferStatus:    "FTSTAT",
	ReplyPIVData:               "PIVDATAR",
	ReplyManufacturerSpecific:  "MFGREP",
}

func (r ReplyType) String() string {
	if name, ok := replyNames[r]; ok {
		return name
	}

	return fmt.Sprintf("REPLY(0x%02X)", byte(r))
}

// ErrorCode is the first data byte of a NAK reply.
type ErrorCode byte

const (
	ErrCodeNone                        ErrorCode = 0x00
	ErrCodeBadChecksumOrCRC            ErrorCode = 0x01
	ErrCodeInvalidCommandLength        ErrorCode = 0x02
	ErrCodeUnknownCommandCode          ErrorCode = 0x03
	ErrCodeUnexpectedSequenceNumber    ErrorCode = 0x04
	ErrCodeDoesNotSupportSecurityBlock ErrorCode = 0x05
	ErrCodeCommunicationSecurityNotMet ErrorCode = 0x06
	ErrCodeBioTypeNotSupported         ErrorCode = 0x07
	ErrCodeBioFormatNotSupported       ErrorCode = 0x08
	ErrCodeUnableToProcessCommand      ErrorCode = 0x09
)

func (e ErrorCode) String() string {
	switch e {
	case ErrCodeNone:
		return "NoError"
	case ErrCodeBadChecksumOrCRC:
		return "BadChecksumOrCrc"
	case ErrCodeInvalidCommandLength:
		return "InvalidCommandLength"
	case ErrCodeUnknownCommandCode:
		return "UnknownCommandCode"
	case ErrCodeUnexpectedSequenceNumber:
		return "UnexpectedSequenceNumber"
	case ErrCodeDoesNotSupportSecurityBlock:
		return "DoesNotSupportSecurityBlock"
	case ErrCodeCommunicationSecurityNotMet:
		return "CommunicationSecurityNotMet"
	case ErrCodeBioTypeNotSupported:
		return "BioTypeNotSupported"
	case ErrCodeBioFormatNotSupported:
		return "BioFormatNotSupported"
	case ErrCodeUnableToProcessCommand:
		return "UnableToProcessCommand"
	default:
		return fmt.Sprintf("ErrorCode(0x%02X)", byte(e))
	}
}

// SecurityBlockType is the type byte of a security control block.
type SecurityBlockType byte

const (
	SCS11 SecurityBlockType = 0x11 // CHLNG
	SCS12 SecurityBlockType = 0x12 // CCRYPT
	SCS13 SecurityBlockType = 0x13 // SCRYPT
	SCS14 SecurityBlockType = 0x14 // RMAC_I
	SCS15 SecurityBlockType = 0x15 // command, MAC only
	SCS16 SecurityBlockType = 0x16 // reply, MAC only
	SCS17 SecurityBlockType = 0x17 // command, MAC and encrypted data
	SCS18 SecurityBlockType = 0x18 // reply, MAC and encrypted data
)

// HasMAC reports whether messages with this block type carry a MAC.
func (t SecurityBlockType) HasMAC() bool {
	return t >= SCS15 && t <= SCS18
}

// HasEncryptedData reports whether the data field of messages with this block type is encrypted.
func (t SecurityBlockType) HasEncryptedData() bool {
	return t == SCS17 || t == SCS18
}
