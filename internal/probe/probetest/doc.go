// Package probetest runs patched native code from tests.
package probetest
