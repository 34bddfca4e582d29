package archive

import "time"

// Menu describes the logger's menu: what it prints, what it accepts, and
// how long each step may take.
type Menu struct {
	MainBanner string
	FileBanner string
	ListingEnd string

	Noop     string
	FileMode string
	List     string
	Send     string
	Exit     string

	ProbeTimeout    time.Duration
	FileModeTimeout time.Duration
	ListingTimeout  time.Duration
	ExitTimeout     time.Duration

	// SeekTimeout bounds the whole seek_menu phase. Zero means keep probing
	// until the logger wakes up or the link fails.
	SeekTimeout time.Duration

	// Settle is the pause the logger needs between commands.
	Settle time.Duration

	ListingAttempts int
	ExitAttempts    int
}

// DefaultMenu returns the menu of the stock logger firmware.
func DefaultMenu() Menu {
	return Menu{
		MainBanner:      "Menu: Main Menu",
		FileBanner:      "ZModem",
		ListingEnd:      "End of Directory",
		Noop:            " ",
		FileMode:        "s",
		List:            "dir",
		Send:            "sz",
		Exit:            "x",
		ProbeTimeout:    300 * time.Millisecond,
		FileModeTimeout: 10 * time.Second,
		ListingTimeout:  90 * time.Second,
		ExitTimeout:     30 * time.Second,
		Settle:          time.Second,
		ListingAttempts: 5,
		ExitAttempts:    3,
	}
}

// DefaultTransferCommand receives one file over the console device.
const DefaultTransferCommand = "rz --overwrite < /dev/rfcomm0 > /dev/rfcomm0"
