package mdns

import (
	"fmt"
	"os/exec"
	"strconv"
)

const publishCommand = "avahi-publish-service"

// Publisher runs avahi-publish-service for as long as the registration
// lives.
type Publisher struct {
	cmd *exec.Cmd
}

// NewPublisher creates a new command line publisher
func NewPublisher() *Publisher {
	return &Publisher{}
}

// publishArgs builds the avahi-publish-service command line.
func publishArgs(s *Service) []string {
	var args []string
	if s.Domain != "" {
		args = append(args, "--domain="+s.Domain)
	}
	if s.Host != "" {
		args = append(args, "--host="+s.Host)
	}
	args = append(args, s.Name, s.Type, strconv.Itoa(s.Port))
	return append(args, s.TXTRecords...)
}

// Publish starts avahi-publish-service in the background.
func (p *Publisher) Publish(s *Service) error {
	if !IsAvahiAvailable() {
		return fmt.Errorf("%s not found (install avahi-utils)", publishCommand)
	}

	p.cmd = exec.Command(publishCommand, publishArgs(s)...)
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", publishCommand, err)
	}
	return nil
}

// Stop stops the service publication
func (p *Publisher) Stop() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}
	_ = p.cmd.Wait()
	p.cmd = nil
	return nil
}

// IsAvahiAvailable checks if the Avahi command line tools are installed
func IsAvahiAvailable() bool {
	_, err := exec.LookPath(publishCommand)
	return err == nil
}
