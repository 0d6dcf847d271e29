package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"avatarbot/internal/infra/config"
)

// runEncrypt prints the encrypted form of a secret so it can be pasted into
// config.yaml. The value comes from args or, when absent, the first line of stdin.
func runEncrypt(args []string) error {
	return encryptTo(os.Stdout, os.Stdin, args, os.Getenv("AVATARBOT_CONFIG_KEY"))
}

func encryptTo(w io.Writer, r io.Reader, args []string, passphrase string) error {
	if passphrase == "" {
		return errors.New("AVATARBOT_CONFIG_KEY must be set")
	}

	var value string
	if len(args) > 0 {
		value = args[0]
	} else {
		line, err := bufio.NewReader(r).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read value: %w", err)
		}
		value = strings.TrimRight(line, "\r\n")
	}
	if value == "" {
		return errors.New("nothing to encrypt")
	}

	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "enc:"+enc)
	return nil
}
