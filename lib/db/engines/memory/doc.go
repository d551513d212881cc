// Package memory implements db.Collection in process memory.
//
// Documents are normalized through a BSON round trip on the way in, so the
// engine sees exactly the types the MongoDB driver would return (bson.M,
// bson.A, int32/int64/float64, primitive.ObjectID, ...). Generated ids are
// ObjectIDs and _id is unique per collection.
//
// Supported query operators: implicit equality (including array membership
// and dotted paths), $eq $ne $gt $gte $lt $lte $in $nin $all $exists $regex
// $options $size $elemMatch $not $and $or $nor.
//
// Supported update operators: $set $unset $inc $mul $min $max $currentDate
// $rename $push $addToSet ($each) $pull $pop $setOnInsert. Upserts start from
// the equality conditions of the filter.
//
// Supported pipeline stages: $match $project $addFields $set $unset $group
// $sort $skip $limit $count $unwind, with the expression operators $literal
// $strLenCP $concat $toLower $toUpper $add $subtract $multiply $divide $size
// $ifNull and the accumulators $sum $avg $min $max $first $last $push
// $addToSet $count.
//
// Anything else fails with an error wrapping db.ErrUnsupported. Options.Extra
// is ignored. Sorting follows the BSON comparison order, and documents that
// compare equal keep their insertion order.
//
// New creates a private collection. Open returns a handle to a collection
// shared by name within the process, which is what memory:// connection
// urls resolve to.
package memory
