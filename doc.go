// Package max31855 reads the Maxim MAX31855 cold-junction compensated
// thermocouple-to-digital converter.
//
// The chip has no registers: every chip select assertion clocks out a 32-bit
// frame holding the thermocouple temperature (14 bits, 0.25°C), the internal
// reference junction temperature (12 bits, 0.0625°C) and the fault bits.
// Stopping after 16 bits gives the thermocouple temperature and the aggregate
// fault bit only.
//
// The decoding functions (DecodeFull, DecodeThermocouple, DecodeAndConvert)
// do no I/O and can be used with frames obtained from any transport. Dev
// reads frames over a periph.io SPI port.
//
// Datasheet: https://www.analog.com/media/en/technical-documentation/data-sheets/MAX31855.pdf
package max31855
